package convention

import "github.com/securactl/securactl/pkg/securable"

// Bind attaches the convention to a container: it is applied immediately
// to the container and, recursively, to every existing descendant, and
// an attach hook re-applies it to every child added afterwards. Children
// attached after binding are therefore never left ungoverned.
func (c *Convention) Bind(root securable.Container, env securable.Environment) error {
	if err := c.applyTree(root, env); err != nil {
		return err
	}
	root.AddAttachHook(func(child securable.Securable) {
		// Hook errors cannot propagate through the attach call; an
		// expression failure here is logged and the child keeps
		// whatever tags it already has.
		if err := c.applyTree(child, env); err != nil {
			c.logger.Error().Err(err).
				Str("securable", child.BaseName()).
				Msg("convention re-application on attach failed")
		}
	})
	return nil
}

func (c *Convention) applyTree(s securable.Securable, env securable.Environment) error {
	if err := c.ApplyTo(s, env); err != nil {
		return err
	}
	if container, ok := s.(securable.Container); ok {
		for _, child := range container.Children() {
			if err := c.applyTree(child, env); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateTree validates the container and every descendant, returning
// the union of all violations.
func (c *Convention) ValidateTree(root securable.Securable) []error {
	violations := c.ValidateSecurable(root)
	if container, ok := root.(securable.Container); ok {
		for _, child := range container.Children() {
			violations = append(violations, c.ValidateTree(child)...)
		}
	}
	return violations
}
