// Package locspec implements code to parse a string into a breakpoint
// specification.
//
// Breakpoint spec examples:
//
// bpStr ::= at <cycle> | after <n> | in <procedure> | <filename>:<line> | <filename>
// * at <cycle> stops when the cycle counter reaches <cycle>
// * after <n> stops <n> cycles after execution resumes
// * in <procedure> stops on every instruction of <procedure>, given as module::name or just name
// * <filename> can be the full path of a file or just a suffix, without a line every line of the file matches
package locspec
