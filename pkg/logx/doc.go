// Package logx configures taskq's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Library code decoupled from sink configuration (zero Logger is a no-op)
package logx
