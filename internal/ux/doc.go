// Package ux is the user-interaction surface of htmlporter: status messages
// for the person running a command, and the prompt that picks a template.
package ux
