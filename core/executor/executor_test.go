package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mudler/LocalEntity/core/executor"
)

var _ = Describe("Executor", func() {
	var (
		ctx    context.Context
		tmpDir string
		exec   *executor.Executor
		spoken []string
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		tmpDir, err = os.MkdirTemp("", "executor_test_*")
		Expect(err).ToNot(HaveOccurred())

		spoken = nil
		exec, err = executor.New(
			executor.WithSandboxPath(tmpDir),
			executor.WithOutputCallback(func(text string) {
				spoken = append(spoken, text)
			}),
		)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("captures printed output", func() {
		result := exec.Execute(ctx, `fmt.Println("hello from the sandbox")`)

		Expect(result.Error).To(BeEmpty())
		Expect(result.Success).To(BeTrue())
		Expect(result.Output).To(ContainSubstring("hello from the sandbox"))
		Expect(result.TaskEnded).To(BeFalse())
	})

	It("reports the final expression value", func() {
		result := exec.Execute(ctx, `6 * 7`)

		Expect(result.Success).To(BeTrue())
		Expect(result.ReturnValue).To(Equal("42"))
	})

	It("collects user messages and ends the task", func() {
		result := exec.Execute(ctx, `sayToUser("All done.")`)

		Expect(result.Success).To(BeTrue())
		Expect(result.UserMessages).To(Equal([]string{"All done."}))
		Expect(result.TaskEnded).To(BeTrue())
		Expect(spoken).To(Equal([]string{"All done."}))
	})

	It("does not end the task without user messages", func() {
		result := exec.Execute(ctx, `x := 1 + 1
_ = x`)

		Expect(result.Success).To(BeTrue())
		Expect(result.TaskEnded).To(BeFalse())
		Expect(result.UserMessages).To(BeEmpty())
	})

	It("creates and reads files in the sandbox", func() {
		result := exec.Execute(ctx, `createFile("greeting.txt", "hi there")
content, err := readFile("greeting.txt")
if err != nil {
	panic(err)
}
fmt.Println(content)`)

		Expect(result.Error).To(BeEmpty())
		Expect(result.Success).To(BeTrue())
		Expect(result.Output).To(ContainSubstring("hi there"))
		Expect(result.FilesCreated).To(HaveLen(1))
		Expect(result.FilesCreated[0]).To(Equal(filepath.Join(tmpDir, "greeting.txt")))
		Expect(result.FilesRead).To(HaveKeyWithValue(filepath.Join(tmpDir, "greeting.txt"), "hi there"))
	})

	It("flattens file paths into the sandbox", func() {
		result := exec.Execute(ctx, `createFile("../evil.txt", "contained")`)

		Expect(result.Success).To(BeTrue())
		Expect(result.FilesCreated).To(Equal([]string{filepath.Join(tmpDir, "evil.txt")}))
		Expect(filepath.Join(filepath.Dir(tmpDir), "evil.txt")).ToNot(BeAnExistingFile())
	})

	It("surfaces missing files as errors", func() {
		result := exec.Execute(ctx, `_, err := readFile("ghost.txt")
fmt.Println(err)`)

		Expect(result.Success).To(BeTrue())
		Expect(result.Output).To(ContainSubstring("file not found: ghost.txt"))
	})

	It("blocks host packages in safe mode", func() {
		result := exec.Execute(ctx, `import "os/exec"

cmd := exec.Command("ls")
_ = cmd`)

		Expect(result.Success).To(BeFalse())
		Expect(result.Error).To(ContainSubstring("os/exec"))
	})

	It("allows host packages in unsafe mode", func() {
		unsafe, err := executor.New(
			executor.WithSandboxPath(tmpDir),
			executor.WithUnsafeMode(true),
		)
		Expect(err).ToNot(HaveOccurred())

		result := unsafe.Execute(ctx, `import "os"

wd, err := os.Getwd()
_ = err
fmt.Println(len(wd) > 0)`)

		Expect(result.Error).To(BeEmpty())
		Expect(result.Success).To(BeTrue())
		Expect(result.Output).To(ContainSubstring("true"))
	})

	It("fails on runtime errors without crashing", func() {
		result := exec.Execute(ctx, `a, b := 1, 0
fmt.Println(a / b)`)

		Expect(result.Success).To(BeFalse())
		Expect(result.Error).ToNot(BeEmpty())
	})

	It("fails on code that does not parse", func() {
		result := exec.Execute(ctx, `fmt.Println(`)

		Expect(result.Success).To(BeFalse())
		Expect(result.Error).ToNot(BeEmpty())
	})

	It("stops long executions at the timeout", func() {
		slow, err := executor.New(
			executor.WithSandboxPath(tmpDir),
			executor.WithTimeout(150*time.Millisecond),
		)
		Expect(err).ToNot(HaveOccurred())

		start := time.Now()
		result := slow.Execute(ctx, `time.Sleep(2 * time.Second)`)

		Expect(result.Success).To(BeFalse())
		Expect(result.Error).To(ContainSubstring("timed out"))
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})

	It("keeps definitions from leaking across runs", func() {
		result := exec.Execute(ctx, `answer := 42
fmt.Println(answer)`)
		Expect(result.Success).To(BeTrue())

		result = exec.Execute(ctx, `fmt.Println(answer)`)
		Expect(result.Success).To(BeFalse())
	})

	It("lists and clears sandbox files", func() {
		result := exec.Execute(ctx, `createFile("a.txt", "x")
createFile("b.txt", "y")`)
		Expect(result.Success).To(BeTrue())

		files, err := exec.SandboxFiles()
		Expect(err).ToNot(HaveOccurred())
		Expect(files).To(HaveLen(2))

		Expect(exec.ClearSandbox()).To(Succeed())
		files, err = exec.SandboxFiles()
		Expect(err).ToNot(HaveOccurred())
		Expect(files).To(BeEmpty())
	})
})
