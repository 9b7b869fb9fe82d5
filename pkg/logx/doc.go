// Package logx is a thin structured-logging facade over zerolog.
//
// It exists so the rest of the codebase depends on a small stable surface
// (Logger + Field helpers) while sink wiring (console/file, levels) can be
// swapped at runtime through Service.Apply.
package logx
