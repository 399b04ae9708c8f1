// Package services holds the clients of everything outside this process: the AI completion
// endpoints, the Emofelix API with its chat stream, and the local conversation archive.
package services

const errLoggerKey = "err"
