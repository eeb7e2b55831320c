// Package chunker renders the text documents the embedding stage submits for
// each documented entity of a merged index.
//
// A document is a short block of labelled lines:
//
//	Symbol kind: type
//	Name: BoxOfFruits
//	Fully qualified name: lib::BoxOfFruits
//	Namespace: lib
//	Signature: class BoxOfFruits
//	Constructor: BoxOfFruits()
//	Method: void add(const Fruit& fruit)
//	Comment:
//	class container for fruits
//
// Undocumented entities get no chunk. Documents longer than the token budget
// (chars/4 heuristic) are cut at a line boundary. Each chunk carries the
// SHA-256 of its content, which keys the embedding cache.
package chunker
