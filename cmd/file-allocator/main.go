// Точка входа File Allocator — движок распределения строк исходных
// CSV-файлов между исполнителями.
// Переменные окружения дополнительно читаются из .env в рабочей директории.
package main

import (
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/bigkaa/wfm-allocator/internal/config"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "file-allocator",
	Short:         "Распределение строк исходных файлов между исполнителями",
	Long:          "Выдаёт исполнителям непересекающиеся диапазоны строк CSV, отдаёт срезы, принимает архивы результата и ведёт учёт дневной выработки.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("загрузка конфигурации: %w", err)
		}
		cfg = c
		logger = config.SetupLogger(cfg)
		return nil
	},
	// Без подкоманды запускается HTTP-сервер
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Завершение с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
