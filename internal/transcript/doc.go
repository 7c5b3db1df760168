// Package transcript exports a thread as a self-contained HTML page.
package transcript
