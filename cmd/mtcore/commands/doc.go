// Package commands implements the mtcore command line: inspecting and
// moving session stores, querying the peer cache and probing datacenter
// connectivity over the obfuscated transport.
package commands
