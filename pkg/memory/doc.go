// Package memory keeps a bounded conversation window and usage statistics per group chat.
//
// Invariants:
// - A group's window never holds more than its configured capacity; the oldest turn is evicted first.
// - MessageCount only counts committed turns and never decreases until Clear.
// - LastActivity never moves backwards for a group.
// - Every read and write of a group happens under that group's own lock, so groups never block each other.
//
// Usage:
//
//	store := memory.NewStore(10)
//	store.Record("-1001", memory.RoleHuman, "btc price?", "42")
//	store.Record("-1001", memory.RoleAssistant, "BITCOIN 当前价格: $67,000.00 USD", "")
//	history := store.History("-1001")
//	_ = history
package memory
