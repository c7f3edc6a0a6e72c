// Package preferences provides durable key/value stores for device
// preferences such as the selected language.
//
// Every store satisfies authgate.PreferenceStore. Use NewMemoryStore for
// tests, NewBunStore for a sqlite/postgres backed store and NewRedisStore
// when preferences live in Redis.
package preferences
