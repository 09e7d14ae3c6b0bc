// Package cmd implements the voxmail command line interface.
package cmd
