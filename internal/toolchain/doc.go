// Package toolchain compiles generated scenario sources into test
// executables and runs registered tests.
//
// ExecCompiler invokes the configured driver as
//
//	<cxx> -std=<std> -I<dir>... -D<def>... <extra> <generated.cpp> <link inputs> -o <out>
//
// in the target directory. Compiler output becomes the diagnostic of the
// BuildError. A test passes exactly when its process exits with status 0.
package toolchain
