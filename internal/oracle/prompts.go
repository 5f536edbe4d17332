package oracle

import "fmt"

const summarizeSystemPrompt = `You analyze desktop interaction logs and decide whether they contain a reusable workflow (a repeatable, goal-directed sequence of UI operations).

Return JSON only:
{
  "name": "short imperative workflow name",
  "description": "what this workflow accomplishes",
  "tags": ["lowercase", "keywords"],
  "parameters": [{"name": "param_name", "description": "what varies between runs"}],
  "confidence": 0.0-1.0,
  "is_workflow": true/false
}

Set is_workflow=false for aimless browsing, single isolated clicks, or sequences with no repeatable intent. Confidence reflects how certain you are the sequence is reusable as recorded.`

func summarizePrompt(appName, actionLog string) string {
	return fmt.Sprintf(
		"Interaction log for application %q:\n\n%s\n\nDecide whether this is a reusable workflow and answer with the JSON schema from the system prompt.",
		appName, actionLog)
}

const selectActionSystemPrompt = `You control a desktop one action at a time toward a stated goal.

Available actions:
  click(x,y) - left click at coordinates
  right_click(x,y) - right click
  text_input(text) - type text
  key_shortcut(keycode, flags) - keyboard shortcut
  wait - pause and re-observe
  done - the goal is already achieved

Return JSON only:
{
  "action_type": "click|right_click|text_input|key_shortcut|wait|done",
  "x": 0, "y": 0,
  "text": "",
  "keycode": 0, "flags": 0, "modifiers": [],
  "target_description": "what the action targets",
  "reasoning": "one sentence",
  "confidence": 0.0-1.0
}

Choose the single most useful next action. Prefer done over redundant actions once the goal state is visible.`

func selectActionPrompt(goal, stateDesc, history string) string {
	return fmt.Sprintf(
		"Goal: %s\n\nCurrent desktop state:\n%s\n\nRecent steps:\n%s\n\nChoose the next action as JSON.",
		goal, stateDesc, history)
}

const verifyStepSystemPrompt = `You compare two desktop screenshots taken before and after an action and judge whether the expected change occurred.

Return JSON only:
{"success": true/false, "confidence": 0.0-1.0, "reasoning": "one sentence"}

Judge only what is visible. If the screenshots are inconclusive, return success=false with low confidence.`

func verifyStepPrompt(expectedChange string) string {
	return fmt.Sprintf(
		"Expected change: %s\n\nThe first image was taken before the action, the second after. Did the expected change occur?",
		expectedChange)
}

const checkGoalSystemPrompt = `You judge whether a desktop automation goal has been achieved.

Return JSON only:
{"achieved": true/false, "confidence": 0.0-1.0, "reasoning": "one sentence"}

Answer from the current state and history alone; do not assume unobserved progress.`

func checkGoalPrompt(goal, stateDesc, history string) string {
	return fmt.Sprintf(
		"Goal: %s\n\nCurrent desktop state:\n%s\n\nExecution history:\n%s\n\nHas the goal been achieved?",
		goal, stateDesc, history)
}

const visionSystemPrompt = `You locate a UI element in a desktop screenshot.

Return JSON only:
{"x": 0.0, "y": 0.0, "confidence": 0.0-1.0}

x and y are the pixel coordinates of the element's center in the screenshot. If you cannot find the element, return confidence 0.`

func visionPrompt(description string) string {
	return fmt.Sprintf("Find this element in the screenshot: %s", description)
}
