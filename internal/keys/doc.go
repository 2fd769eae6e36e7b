// Package keys owns the per-session key material used by the relay hub.
//
// Each session gets one X25519 keypair (nacl/box). The public half is
// exported as base64 and may be handed to other sessions; the private half
// stays inside the KeyPair and is wiped when the session is evicted.
//
// Seal encrypts to an imported public key with a one-shot ephemeral keypair
// (an anonymous box), and KeyPair.Open reverses it with the private half.
package keys
