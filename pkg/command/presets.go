package command

import "time"

// Once builds a command that runs its action on exactly one tick and then ends.
func Once(a Action) *Builder {
	return Create().Task(a).RunWhileFunc(func(c *Command) bool { return c.Ticks() < 1 })
}

// WaitUntil builds a command that does nothing until cond reports true.
func WaitUntil(cond func() bool) *Builder {
	return Create().RunWhile(Not(While(cond)))
}

// Delay builds a command that does nothing for d.
func Delay(d time.Duration) *Builder {
	return Create().RunForTime(d)
}

// Empty builds a command that ends on its first tick without doing anything.
func Empty() *Builder {
	return Create()
}
