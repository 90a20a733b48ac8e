// Package pages holds standalone pages that do not belong to a plugin.
package pages
