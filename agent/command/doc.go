/*
Package command turns a line received from an osh client into a program name and argument vector.

Tokens are split on runs of spaces and tabs. There is no quoting, escaping, or shell interpretation: every token reaches the process as a literal argument, and the program is exec'd directly rather than through a shell.
*/
package command
