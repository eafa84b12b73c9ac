package source

import "path"

// ignoredFiles 是按文件名（不含目录）精确匹配的依赖锁文件列表。
var ignoredFiles = map[string]struct{}{
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
	"bun.lockb":         {},
	"Cargo.lock":        {},
	"go.sum":            {},
	"composer.lock":     {},
	"Gemfile.lock":      {},
	"Pipfile.lock":      {},
	"poetry.lock":       {},
}

// Ignored 判断给定路径是否属于忽略列表。匹配基于文件名且区分大小写，
// 因此 "my-yarn.lock" 或 "Yarn.lock" 不会被忽略。
func Ignored(p string) bool {
	_, ok := ignoredFiles[path.Base(p)]
	return ok
}
