// Package rules reconciles sender-domain filter rules: one managed rule per
// action kind whose criteria is the disjunction of all blocked or archived
// sender domains.
package rules
