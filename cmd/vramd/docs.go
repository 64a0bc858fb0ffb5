package main

// General API documentation for swaggo. Regenerate docs/ with
// `swag init -g cmd/vramd/docs.go -o docs`.
//
// @title           vramd API
// @version         1.0
// @description     GPU residency arbiter and chat session controller for local LLM runtimes.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
