// Package mcp exposes the coordinator over the Model Context Protocol.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// on the stdio transport and registers two tools: agent_run, which executes a
// coordination run with the same fields as the HTTP body, and budget_snapshot,
// which reports one scope's budget accounting. Monetary values cross the tool
// boundary as float dollars.
package mcp
