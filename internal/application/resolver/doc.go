// Package resolver turns definition trees into live instance hashes.
//
// Resolution runs in two passes:
//   - Validate walks the whole tree without side effects
//   - Resolve walks it again depth-first, deploying every node that carries
//     an inline instance after its dependencies
//
// Children inherit their parent's merged environment. Every result and error
// carries the node path, e.g. nodes[1].dependencies[0].
package resolver
