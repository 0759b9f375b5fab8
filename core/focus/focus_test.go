package focus_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mudler/LocalEntity/core/focus"
)

var _ = Describe("Focus module", func() {
	var module *focus.Module

	BeforeEach(func() {
		module = focus.New()
	})

	plan := func(descriptions ...string) []focus.StepSpec {
		var steps []focus.StepSpec
		for i, d := range descriptions {
			steps = append(steps, focus.StepSpec{
				ID:          "step_" + string(rune('1'+i)),
				Description: d,
			})
		}
		return steps
	}

	It("runs a task from plan to aggregated result", func() {
		task := module.CreateTask("Write a report", "Write the quarterly report", focus.PriorityMedium)
		Expect(task.Status).To(Equal(focus.StatusPending))

		Expect(module.Decompose(task.ID, plan("Collect numbers", "Draft text"))).To(Succeed())
		Expect(module.StartTask(task.ID)).To(Succeed())

		current, ok := module.Task(task.ID)
		Expect(ok).To(BeTrue())
		Expect(current.Status).To(Equal(focus.StatusInProgress))
		Expect(current.Steps).To(HaveLen(2))

		step := module.NextStep(task.ID)
		Expect(step).ToNot(BeNil())
		Expect(step.ID).To(Equal("step_1"))
		Expect(step.Status).To(Equal(focus.StatusInProgress))

		module.CompleteStep(task.ID, "step_1", "numbers collected", "")

		current, _ = module.Task(task.ID)
		Expect(current.Progress()).To(BeNumerically("~", 50.0, 0.1))

		step = module.NextStep(task.ID)
		Expect(step.ID).To(Equal("step_2"))
		module.CompleteStep(task.ID, "step_2", "draft written", "")

		current, _ = module.Task(task.ID)
		Expect(current.Status).To(Equal(focus.StatusCompleted))
		Expect(current.Result).To(Equal("[step_1] numbers collected\n[step_2] draft written"))
		Expect(current.Progress()).To(BeNumerically("~", 100.0, 0.1))
	})

	It("fails the task when a step fails", func() {
		task := module.CreateTask("Fetch data", "Fetch remote data", focus.PriorityHigh)
		Expect(module.Decompose(task.ID, plan("Call the API", "Store results"))).To(Succeed())
		Expect(module.StartTask(task.ID)).To(Succeed())

		module.CompleteStep(task.ID, "step_1", "", "connection refused")
		module.CompleteStep(task.ID, "step_2", "nothing to store", "")

		current, _ := module.Task(task.ID)
		Expect(current.Status).To(Equal(focus.StatusFailed))
		Expect(current.Result).To(ContainSubstring("[step_1] ERROR: connection refused"))
	})

	It("trims plans beyond the step bound", func() {
		module = focus.New(focus.WithMaxSteps(2))
		task := module.CreateTask("Big plan", "A very big plan", focus.PriorityLow)

		Expect(module.Decompose(task.ID, plan("one", "two", "three"))).To(Succeed())

		current, _ := module.Task(task.ID)
		Expect(current.Steps).To(HaveLen(2))
	})

	It("rejects plans for unknown tasks", func() {
		err := module.Decompose("focus_missing", plan("one"))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("task not found"))
	})

	It("hands out pending steps without repeating claimed ones", func() {
		task := module.CreateTask("Two steps", "Two step task", focus.PriorityMedium)
		Expect(module.Decompose(task.ID, plan("first", "second"))).To(Succeed())

		first := module.NextStep(task.ID)
		second := module.NextStep(task.ID)
		third := module.NextStep(task.ID)

		Expect(first.ID).To(Equal("step_1"))
		Expect(second.ID).To(Equal("step_2"))
		Expect(third).To(BeNil())
	})

	It("notifies callbacks on step and task completion", func() {
		var stepEvents []string
		var taskEvents []focus.Status
		module.OnStepComplete(func(task *focus.Task, step *focus.Step) {
			stepEvents = append(stepEvents, step.ID)
		})
		module.OnTaskComplete(func(task *focus.Task) {
			taskEvents = append(taskEvents, task.Status)
		})

		task := module.CreateTask("Callback task", "Callback task", focus.PriorityMedium)
		Expect(module.Decompose(task.ID, plan("only step"))).To(Succeed())
		Expect(module.StartTask(task.ID)).To(Succeed())
		module.CompleteStep(task.ID, "step_1", "done", "")

		Expect(stepEvents).To(Equal([]string{"step_1"}))
		Expect(taskEvents).To(Equal([]focus.Status{focus.StatusCompleted}))
	})

	It("lists only in-progress tasks as active", func() {
		running := module.CreateTask("Running", "Running task", focus.PriorityMedium)
		module.CreateTask("Idle", "Idle task", focus.PriorityMedium)
		Expect(module.StartTask(running.ID)).To(Succeed())

		active := module.ActiveTasks()
		Expect(active).To(HaveLen(1))
		Expect(active[0].ID).To(Equal(running.ID))
	})

	It("cancels unfinished tasks only", func() {
		task := module.CreateTask("Cancel me", "Cancel me", focus.PriorityMedium)
		Expect(module.CancelTask(task.ID)).To(BeTrue())

		done := module.CreateTask("Done", "Done task", focus.PriorityMedium)
		Expect(module.Decompose(done.ID, plan("only"))).To(Succeed())
		module.CompleteStep(done.ID, "step_1", "ok", "")
		Expect(module.CancelTask(done.ID)).To(BeFalse())
	})

	It("clears finished tasks", func() {
		task := module.CreateTask("Short", "Short task", focus.PriorityMedium)
		Expect(module.Decompose(task.ID, plan("only"))).To(Succeed())
		module.CompleteStep(task.ID, "step_1", "ok", "")
		module.CreateTask("Keep", "Still pending", focus.PriorityMedium)

		Expect(module.ClearCompleted()).To(Equal(1))
		_, ok := module.Task(task.ID)
		Expect(ok).To(BeFalse())
		Expect(module.ActiveTasks()).To(BeEmpty())
	})

	It("renders a readable summary", func() {
		task := module.CreateTask("Summary task", "Summarize things", focus.PriorityMedium)
		Expect(module.Decompose(task.ID, plan("collect", "report"))).To(Succeed())
		module.CompleteStep(task.ID, "step_1", "done", "")

		summary := module.Summary(task.ID)
		Expect(summary).To(ContainSubstring("Task: Summary task"))
		Expect(summary).To(ContainSubstring("Progress: 50.0%"))
		Expect(summary).To(ContainSubstring("[completed] step_1: collect"))
		Expect(summary).To(ContainSubstring("[pending] step_2: report"))

		Expect(module.Summary("focus_unknown")).To(Equal("Task not found"))
	})
})

var _ = Describe("ParseSteps", func() {
	It("normalizes numeric ids", func() {
		steps := focus.ParseSteps(map[string]interface{}{
			"steps": []interface{}{
				map[string]interface{}{"id": float64(1), "description": "first"},
				map[string]interface{}{"id": float64(2), "description": "second"},
			},
		})

		Expect(steps).To(Equal([]focus.StepSpec{
			{ID: "step_1", Description: "first"},
			{ID: "step_2", Description: "second"},
		}))
	})

	It("keeps string ids and fills missing ones", func() {
		steps := focus.ParseSteps(map[string]interface{}{
			"steps": []interface{}{
				map[string]interface{}{"id": "gather", "description": "gather input"},
				map[string]interface{}{"description": "write output"},
			},
		})

		Expect(steps).To(HaveLen(2))
		Expect(steps[0].ID).To(Equal("gather"))
		Expect(steps[1].ID).To(Equal("step_2"))
	})

	It("skips blank steps and tolerates junk", func() {
		steps := focus.ParseSteps(map[string]interface{}{
			"steps": []interface{}{
				map[string]interface{}{"id": "a", "description": "   "},
				"not a step",
				map[string]interface{}{"id": "b", "description": "real"},
			},
		})

		Expect(steps).To(HaveLen(1))
		Expect(steps[0].Description).To(Equal("real"))
	})

	It("returns nothing without a steps list", func() {
		Expect(focus.ParseSteps(map[string]interface{}{"plan": "none"})).To(BeEmpty())
		Expect(focus.ParseSteps(nil)).To(BeEmpty())
	})
})
