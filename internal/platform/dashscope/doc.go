// Package dashscope implements generation.Generator on top of the DashScope
// asynchronous task API used by the wan image and video models.
//
// Every call submits a task with the X-DashScope-Async header and then polls
// /tasks/{task_id} until the task succeeds, fails or the context ends. Remote
// error codes are mapped onto the generation package's sentinel errors so the
// worker can record a meaningful message on the job.
package dashscope
