// Package pipeline implements the transcription request pipeline: acquiring the
// multimodal model resource once per process and turning an image into
// markdown with it. It is structured into small files by concern:
//
//   - types.go: resource handle, model inputs, generation params, states.
//   - errors.go: Failure and its kinds (IsResourceLoad, IsTranscription, IsInputFormat).
//   - config.go: LoaderConfig/EngineConfig and package defaults.
//   - loader.go: Loader.Acquire, device binding and the transfer fallback.
//   - template.go: chat template rendering and control-token handling.
//   - image.go: color-space normalization.
//   - preprocessor.go: template + tokenizer + image encoder + decoder.
//   - engine.go: Engine.Transcribe and its stage machine.
//   - service.go, status_report.go: process-wide owner of loader and engine.
//   - events.go, metrics.go: observability.
//
// The runtime behind Generator/Tokenizer is provided by callers through a
// Binder (see internal/llamaserver); this package never starts processes itself.
package pipeline
