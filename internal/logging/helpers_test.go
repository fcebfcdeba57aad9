package logging_test

import (
	"io"
	"log/slog"

	"photopipe/internal/logging"
)

func slogJSON(w io.Writer) *slog.Logger {
	return slog.New(logging.NewJSONHandler(w, "debug"))
}
