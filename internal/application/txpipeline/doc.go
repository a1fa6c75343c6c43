// Package txpipeline builds, signs and broadcasts ledger transactions.
//
// Every state-changing call goes through an AccountSession:
//   - Open derives the account and takes the single-writer lock for its address
//   - CreateTransaction stamps the session's next sequence number and fee
//   - Sign produces a deterministic secp256k1 signature over the sign bytes
//   - Broadcast submits with sync or block commitment and, only on success,
//     advances the session sequence
//
// A signed transaction can be broadcast once. FindHash extracts created
// entity hashes from the events of a result.
package txpipeline
