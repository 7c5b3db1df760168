// Package prompts reads the prompt library: categories, prompts and their
// versions. Only prompts with a live version are listed. Connections are
// forced into read-only transactions.
package prompts
