package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("HookableBase", func() {
	var (
		base *HookableBase
		pos  *HookPos
	)

	BeforeEach(func() {
		base = &HookableBase{}
		pos = &HookPos{Name: "Test"}
	})

	It("should invoke hooks in registration order", func() {
		var order []int

		base.AcceptHook(HookFunc(func(ctx HookCtx) {
			Expect(ctx.Pos).To(BeIdenticalTo(pos))
			order = append(order, 1)
		}))
		base.AcceptHook(HookFunc(func(HookCtx) {
			order = append(order, 2)
		}))

		base.InvokeHook(HookCtx{Pos: pos, Item: 7})

		Expect(base.NumHooks()).To(Equal(2))
		Expect(order).To(Equal([]int{1, 2}))
	})

	It("should reject a duplicated hook", func() {
		h := &countingHook{}
		base.AcceptHook(h)

		Expect(func() { base.AcceptHook(h) }).To(Panic())
	})

	It("should not change a hook list already handed out", func() {
		base.AcceptHook(&countingHook{})
		hooks := base.Hooks()

		base.AcceptHook(&countingHook{})

		Expect(hooks).To(HaveLen(1))
		Expect(base.Hooks()).To(HaveLen(2))
	})
})

type countingHook struct {
	count int
}

func (h *countingHook) Func(HookCtx) {
	h.count++
}
