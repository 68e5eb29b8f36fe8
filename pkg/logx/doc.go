// Package logx is msgshell's structured logging on top of zerolog.
//
// Components take a Logger by value and tag it with comp=<name>. The Service
// behind it rewires outputs on config hot reload: a readable console writer,
// a JSON file, or both.
package logx
