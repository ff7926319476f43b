// Package logx configures campaignbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional operator sink (min-level + rate limiting) delivered through the
//     messaging transport
package logx
