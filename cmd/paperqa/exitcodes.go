package main

// Exit codes
const (
	ExitSuccess          = 0 // Success
	ExitError            = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError      = 2 // Configuration error, index missing or built with other settings
	ExitDataError        = 3 // Input data error (unreadable file, missing columns, no valid rows)
	ExitModelUnavailable = 4 // Ollama not running or model not pulled
	ExitQueryFailed      = 5 // A question failed in the answer pipeline
)
