package main

// General API documentation for swaggo. Run `swag init -g cmd/handscribe/docs.go` to regenerate ./docs.
//
// @title           handscribe API
// @version         1.0
// @description     Handwritten image to markdown transcription with Qwen2.5-VL.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
