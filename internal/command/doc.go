// Package command parses and executes the comma separated text protocol
// spoken over the console and datagram channels.
//
// A command line is split on "," into at most ten tokens. The first token
// names the command; the rest are its parameters:
//
//	CONNECT                                 -> OK
//	SET_JOINT_ANGLE,<ch>,<deg>,<speed>      -> OK | NG
//	SET_ALL_JOINT_ANGLES,<deg0..deg6>,<speed> -> OK | NG
//	GET_JOINT_ANGLES                        -> a0,a1,...,a6 (two decimals)
//	DISCONNECT                              -> OK
//
// Anything else is logged and produces no reply.
package command
