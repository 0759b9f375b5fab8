package tools_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	coretools "github.com/mudler/LocalEntity/core/tools"
	"github.com/mudler/LocalEntity/services/tools"
)

var _ = Describe("File actions", func() {
	var (
		ctx    context.Context
		tmpDir string
		create *tools.CreateFileAction
		read   *tools.ReadFileAction
		list   *tools.ListFilesAction
		remove *tools.DeleteFileAction
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		tmpDir, err = os.MkdirTemp("", "filetools_test_*")
		Expect(err).ToNot(HaveOccurred())
		create, read, list, remove = tools.NewFileActions(tmpDir)
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("creates, reads, lists and deletes a file", func() {
		result, err := create.Run(ctx, coretools.Params{
			"path":    "notes/todo.txt",
			"content": "buy milk",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Output).To(Equal("File created: notes/todo.txt"))

		result, err = read.Run(ctx, coretools.Params{"path": "notes/todo.txt"})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Output).To(Equal("buy milk"))

		result, err = list.Run(ctx, coretools.Params{"path": "notes"})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Output).To(ContainSubstring("todo.txt"))
		Expect(result.Output).To(ContainSubstring("8 bytes"))

		result, err = remove.Run(ctx, coretools.Params{"path": "notes/todo.txt"})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Output).To(Equal("File deleted: notes/todo.txt"))

		_, err = read.Run(ctx, coretools.Params{"path": "notes/todo.txt"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("file not found"))
	})

	It("keeps paths inside the sandbox root", func() {
		_, err := create.Run(ctx, coretools.Params{
			"path":    "../escape.txt",
			"content": "jailed",
		})
		Expect(err).ToNot(HaveOccurred())

		outside := filepath.Join(filepath.Dir(tmpDir), "escape.txt")
		Expect(outside).ToNot(BeAnExistingFile())
		Expect(filepath.Join(tmpDir, "escape.txt")).To(BeAnExistingFile())
	})

	It("requires a path to create", func() {
		_, err := create.Run(ctx, coretools.Params{"content": "orphan"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("path is required"))
	})

	It("lists the root by default", func() {
		_, err := create.Run(ctx, coretools.Params{"path": "a.txt", "content": "x"})
		Expect(err).ToNot(HaveOccurred())
		_, err = create.Run(ctx, coretools.Params{"path": "sub/b.txt", "content": "y"})
		Expect(err).ToNot(HaveOccurred())

		result, err := list.Run(ctx, coretools.Params{})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Output).To(ContainSubstring("a.txt"))
		Expect(result.Output).To(ContainSubstring("sub/ (dir)"))
	})

	It("reports an empty directory", func() {
		result, err := list.Run(ctx, coretools.Params{})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Output).To(Equal("Directory is empty"))
	})

	It("errors when deleting a missing file", func() {
		_, err := remove.Run(ctx, coretools.Params{"path": "ghost.txt"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("file not found: ghost.txt"))
	})

	It("files all four tools under filesystem", func() {
		for _, tool := range []coretools.Tool{create, read, list, remove} {
			Expect(tool.Definition().Category).To(Equal("filesystem"))
		}
	})
})
