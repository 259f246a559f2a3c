// 目录名是 mismatch，包名是 realname
package realname

type Type struct{}
