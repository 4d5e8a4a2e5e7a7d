// Package logx is nounsbot's logging front end over zerolog.
//
// Console lines carry a millisecond timestamp and a file:line caller. The
// file sink writes JSON. Loggers obtained from a Service pick up level and
// sink changes made by later Apply calls.
package logx
