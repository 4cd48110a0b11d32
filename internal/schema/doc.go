// Package schema validates stage options before execution.
//
// Every stage, assembler, and source executable may publish a JSON-Schema
// document alongside itself. Options are checked against that schema
// strictly before any execution side effect, and a failure enumerates all
// violated constraints. Executables without a schema accept any options.
package schema
