// Package proofs implements the withdrawal proof bundle: the three
// zero-knowledge proofs a holder must supply to withdraw from a
// confidentially-balanced account, and the verified-proof record the ledger's
// proof program writes into a staging account.
//
//   - Equality proof: the fresh ciphertext in the withdrawal and the
//     homomorphically-debited account ciphertext encrypt the same value
//     (Chaum-Pedersen, MiMC Fiat-Shamir)
//   - Validity proof: the fresh ciphertext is a well-formed encryption under
//     the holder's key, not an arbitrary bit pattern
//   - Range proof: the remaining balance lies in [0, 2^64) (Groth16 over
//     BW6-761, with the ciphertext itself bound as public input)
//
// All three proofs are generated against one shared transcript; components
// from different generation calls cannot be mixed without failing
// verification.
package proofs
