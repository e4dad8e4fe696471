// Package core defines the shared domain types of the finagent runtime:
// conversation threads, role-based messages with polymorphic parts (text,
// tool calls, tool observations), the running summary used for context
// budgeting and the error taxonomy every other package builds on.
//
// Higher layers (agent, tool, checkpoint, memory, output) depend on core;
// core depends on nothing but the standard library and uuid.
package core
