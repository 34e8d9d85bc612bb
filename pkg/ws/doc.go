// Package ws 提供 WebSocket 传输层：升级器配置、带发送队列的连接、心跳与关闭码。
//
// Conn 为每条连接维护一个有界发送队列和一个写协程，Send 非阻塞：
// 连接已关闭返回 ErrConnectionClosed，队列已满返回 ErrSendQueueFull，
// 调用方应把这两种情况都当作连接失效处理。
//
// 读取由调用方在自己的协程中通过 Conn.ReadMessage 完成，保证单连接内帧按到达顺序处理。
//
//	upgrader := ws.NewUpgrader(cfg)
//	wsConn, err := upgrader.Upgrade(w, r)
//	if err != nil {
//	    return
//	}
//	conn := ws.NewConn(wsConn, cfg)
//	conn.Start()
//	defer conn.Close()
//	for {
//	    data, err := conn.ReadMessage()
//	    if err != nil {
//	        return
//	    }
//	    _ = conn.Send(data)
//	}
package ws
