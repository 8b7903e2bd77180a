// Package logx is a thin facade over zerolog with hot-swappable sinks.
//
// A Service owns the root logger; Loggers derived from it stay live across
// Apply() calls, so log level and sink changes from config reload take
// effect without re-wiring components. Sinks: console, append-only file,
// and an in-memory ring of recent WARN+ records served by /get_logs.
package logx
