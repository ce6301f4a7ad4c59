// Package password provides argon2id hashing with PHC string encoding
// and a rule-based strength evaluator.
package password
