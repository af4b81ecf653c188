// Package kconfig reads the resolved Kconfig .config file produced by the
// board configuration step. The image tools consume it as a plain symbol
// table; they never resolve dependencies or defaults themselves.
package kconfig
