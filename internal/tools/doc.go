// Package tools provides host command execution for programming backends.
package tools
