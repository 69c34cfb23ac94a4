// Package confidential implements the encrypted balance model for a
// confidentially-balanced token account.
//
// Overview:
//   - Account balances are stored as additively homomorphic ElGamal ciphertexts
//     over BLS12-377 G1 (exponent ElGamal: the amount lives in the exponent)
//   - A symmetric AES-GCM snapshot of the available balance lets the holder
//     read their balance without solving a discrete log
//   - Both the ElGamal keypair and the AES key are derived deterministically
//     from the holder's signing seed and the account address, so no separate
//     key store exists
//
// Security Model:
//   - Deriving both keys from the signing seed couples their lifetimes:
//     rotating the signing secret rotates the encryption keys with it, and a
//     compromised seed compromises all past balances. This tradeoff buys a
//     stateless derivation with no key files to manage.
//   - All encryption randomness comes from crypto/rand.
package confidential
