// Package embeddings turns catalog text into vectors for the similarity index.
//
// Two providers are available: FastEmbed runs an ONNX model in-process
// (requires CGO and the ONNX runtime), and TEI calls a Hugging Face
// text-embeddings-inference server over HTTP.
package embeddings
