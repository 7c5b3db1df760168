// Package dedupe remembers recently accepted client message ids so a retried
// submission of the same user turn is not recorded twice.
package dedupe
