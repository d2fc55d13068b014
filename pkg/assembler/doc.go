// Package assembler builds the model context for a chat request.
//
// # Overview
//
// Given a thread ID, a system prompt, and the new user turn, the assembler
// produces an ordered message bundle: system prompt first, recent thread
// history in the middle, the new user turn last.
//
// # Tiered History Lookup
//
// History is fetched through three tiers, best first:
//
//  1. The history cache (Redis or in-memory). A hit skips the store entirely.
//  2. The durable turn store, under a bounded retry budget. On success the
//     cache is refilled.
//  3. Degraded assembly: no history at all, just system prompt and user turn.
//     The request proceeds; losing history is preferable to failing the turn.
//
// The bundle records which tier served it in its Source field.
//
// # Validation
//
// Every bundle is validated before use: non-empty content, known roles,
// system prompt exactly first, user turn last. A bundle that fails
// validation is discarded and rebuilt in its minimal degraded form rather
// than sent upstream.
package assembler
