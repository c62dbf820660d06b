// Package binjatron keeps a static binary-analysis view in step with a live
// debugger reached through a Voltron-style request/response API.
//
// The engine has four independent parts:
//  1. Sync Session - polls the debugger for the program counter and the
//     breakpoint listing and reconciles the view's highlights with them
//  2. Error Muter - tolerates a flaky poll, mutes reporting after repeated
//     failures and reports when the connection comes back
//  3. Breakpoint Actions - sets and deletes breakpoints in the debugger's own
//     command dialect (lldb or gdb) and mirrors them in the view at once
//  4. Callback Registry - lets other plugins run code after every poll that
//     reported a program counter
//
// Addresses in the view and in the debugger may differ by a constant slide.
// Everything kept for highlighting is in view space; everything sent to the
// debugger is in debugger space.
//
// The host (the analysis view) is reached through the Host interface and the
// debugger through the Transport interface, which transport.Client
// implements.
package binjatron
