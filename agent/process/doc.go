/*
Package process runs a parsed command as a child process and streams its output to a writer.

The child's stdout and stderr share the write end of a single pipe, so the caller receives one combined stream in whatever order the OS delivers it. The parent reads the pipe one transfer unit at a time and forwards each chunk as soon as it is read, which means long-running commands produce output incrementally.

Once the pipe reports EOF (the child and anything that inherited its descriptors are gone), the runner waits on the child to reap it. There is no timeout: a child that never exits holds its caller indefinitely.

Failures to create the pipe or to start the process are reported to the writer as text, the same way command output is. The protocol does not distinguish "the command failed" from "the command printed an error".
*/
package process
