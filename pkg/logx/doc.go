// Package logx provides a thin structured logging layer over zerolog.
//
// Components receive a logx.Logger value; the zero value is a safe no-op,
// so wiring a logger is always optional.
package logx
