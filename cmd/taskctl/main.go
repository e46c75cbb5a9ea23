// taskctl — инструмент командной строки пайплайна задач.
//
// Использование:
//
//	taskctl [--url URL] [--retries N] [--retry-delay D] [--json] <command> [flags]
//
// Команды:
//
//	publish   Опубликовать task_created для сохранённой задачи
//	topology  Объявить очереди и показать их состояние
//
// Значения по умолчанию для флагов подключения берутся из RABBITMQ_*.
package main

import (
	"fmt"
	"os"

	"github.com/shaiso/taskpipe/internal/cli"
	"github.com/shaiso/taskpipe/internal/config"
	"github.com/shaiso/taskpipe/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitError)
	}

	// Логи подключения — в stderr, чтобы не мешать выводу данных
	logger := telemetry.NewLogger(os.Stderr, cfg.Log.Level, "text")

	rootCmd := cli.NewRootCmd(cli.RootOptions{
		Version:  version,
		Defaults: cfg.RabbitMQ,
		Logger:   logger,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
